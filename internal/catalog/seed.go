package catalog

import "github.com/sift-labs/sift/internal/agent/core"

// seedEntries is the built-in dataset. It is intentionally small but spans
// enough categories, tiers, and price points to exercise every tool.
func seedEntries() []core.Result {
	return []core.Result{
		{ID: "aider", Name: "Aider", Description: "Open source AI pair programming in your terminal", Category: "developer-tools", PricingTier: "free", Price: 0, Rating: 4.6, Tags: []string{"cli", "open-source", "coding"}},
		{ID: "copilot", Name: "GitHub Copilot", Description: "AI code completion inside your editor", Category: "developer-tools", PricingTier: "paid", Price: 10, Rating: 4.5, Tags: []string{"ide", "coding", "completion"}},
		{ID: "cursor", Name: "Cursor", Description: "AI-first code editor with chat and inline edits", Category: "developer-tools", PricingTier: "freemium", Price: 20, Rating: 4.4, Tags: []string{"ide", "coding", "chat"}},
		{ID: "codeium", Name: "Codeium", Description: "Free AI code completion and chat for most editors", Category: "developer-tools", PricingTier: "free", Price: 0, Rating: 4.3, Tags: []string{"ide", "coding", "completion"}},
		{ID: "ollama", Name: "Ollama", Description: "Run large language models locally from the command line", Category: "developer-tools", PricingTier: "free", Price: 0, Rating: 4.7, Tags: []string{"cli", "local", "open-source", "llm"}},
		{ID: "llamacpp", Name: "llama.cpp", Description: "Lightweight local LLM inference with CLI tooling", Category: "developer-tools", PricingTier: "free", Price: 0, Rating: 4.5, Tags: []string{"cli", "local", "open-source", "llm"}},
		{ID: "chatgpt", Name: "ChatGPT", Description: "Conversational assistant for writing, analysis, and coding", Category: "assistants", PricingTier: "freemium", Price: 20, Rating: 4.6, Tags: []string{"chat", "writing", "api"}},
		{ID: "claude", Name: "Claude", Description: "Assistant for long-context reasoning, writing, and code", Category: "assistants", PricingTier: "freemium", Price: 20, Rating: 4.7, Tags: []string{"chat", "writing", "api"}},
		{ID: "gemini", Name: "Gemini", Description: "Multimodal assistant integrated with productivity suites", Category: "assistants", PricingTier: "freemium", Price: 19, Rating: 4.3, Tags: []string{"chat", "multimodal", "api"}},
		{ID: "perplexity", Name: "Perplexity", Description: "Answer engine with cited web search", Category: "search", PricingTier: "freemium", Price: 20, Rating: 4.4, Tags: []string{"search", "citations", "chat"}},
		{ID: "phind", Name: "Phind", Description: "Developer-focused answer engine for technical questions", Category: "search", PricingTier: "freemium", Price: 17, Rating: 4.2, Tags: []string{"search", "coding"}},
		{ID: "midjourney", Name: "Midjourney", Description: "High quality image generation from text prompts", Category: "image-generation", PricingTier: "paid", Price: 10, Rating: 4.6, Tags: []string{"images", "art"}},
		{ID: "dalle", Name: "DALL-E", Description: "Image generation with an API and editor integration", Category: "image-generation", PricingTier: "paid", Price: 15, Rating: 4.3, Tags: []string{"images", "api"}},
		{ID: "sdxl", Name: "Stable Diffusion", Description: "Open source image generation you can self-host", Category: "image-generation", PricingTier: "free", Price: 0, Rating: 4.4, Tags: []string{"images", "open-source", "local"}},
		{ID: "whisper", Name: "Whisper", Description: "Open source speech to text with CLI and API options", Category: "audio", PricingTier: "free", Price: 0, Rating: 4.6, Tags: []string{"audio", "transcription", "open-source", "cli"}},
		{ID: "elevenlabs", Name: "ElevenLabs", Description: "Realistic text to speech voices with an API", Category: "audio", PricingTier: "freemium", Price: 5, Rating: 4.5, Tags: []string{"audio", "tts", "api"}},
		{ID: "grammarly", Name: "Grammarly", Description: "Writing assistant for grammar, tone, and clarity", Category: "writing", PricingTier: "freemium", Price: 12, Rating: 4.3, Tags: []string{"writing", "grammar"}},
		{ID: "jasper", Name: "Jasper", Description: "Marketing copy generation for teams", Category: "writing", PricingTier: "paid", Price: 39, Rating: 4.0, Tags: []string{"writing", "marketing"}},
		{ID: "notion-ai", Name: "Notion AI", Description: "Writing and summarization inside your workspace", Category: "writing", PricingTier: "paid", Price: 8, Rating: 4.2, Tags: []string{"writing", "notes"}},
		{ID: "langchain", Name: "LangChain", Description: "Open source framework for building LLM applications", Category: "frameworks", PricingTier: "free", Price: 0, Rating: 4.1, Tags: []string{"sdk", "open-source", "python", "javascript"}},
		{ID: "llamaindex", Name: "LlamaIndex", Description: "Data framework for retrieval augmented generation", Category: "frameworks", PricingTier: "free", Price: 0, Rating: 4.2, Tags: []string{"sdk", "open-source", "python", "rag"}},
		{ID: "haystack", Name: "Haystack", Description: "Open source NLP framework for search pipelines", Category: "frameworks", PricingTier: "free", Price: 0, Rating: 4.0, Tags: []string{"sdk", "open-source", "python", "search"}},
		{ID: "hf-hub", Name: "Hugging Face Hub", Description: "Model hosting, datasets, and inference endpoints", Category: "platforms", PricingTier: "freemium", Price: 9, Rating: 4.6, Tags: []string{"models", "api", "open-source"}},
		{ID: "replicate", Name: "Replicate", Description: "Run open models in the cloud via a simple API", Category: "platforms", PricingTier: "paid", Price: 5, Rating: 4.3, Tags: []string{"models", "api", "cloud"}},
		{ID: "together", Name: "Together AI", Description: "Fast inference API for open weight models", Category: "platforms", PricingTier: "paid", Price: 5, Rating: 4.2, Tags: []string{"models", "api", "cloud"}},
		{ID: "runway", Name: "Runway", Description: "Video generation and editing with AI", Category: "video", PricingTier: "freemium", Price: 15, Rating: 4.2, Tags: []string{"video", "editing"}},
		{ID: "descript", Name: "Descript", Description: "Edit audio and video by editing the transcript", Category: "video", PricingTier: "freemium", Price: 12, Rating: 4.4, Tags: []string{"video", "audio", "transcription"}},
		{ID: "tabnine", Name: "Tabnine", Description: "Privacy-focused AI code completion", Category: "developer-tools", PricingTier: "freemium", Price: 12, Rating: 4.0, Tags: []string{"ide", "coding", "privacy"}},
		{ID: "sourcegraph-cody", Name: "Cody", Description: "Codebase-aware AI assistant from Sourcegraph", Category: "developer-tools", PricingTier: "freemium", Price: 9, Rating: 4.1, Tags: []string{"ide", "coding", "search"}},
		{ID: "gpt4all", Name: "GPT4All", Description: "Desktop app and CLI for running local models", Category: "developer-tools", PricingTier: "free", Price: 0, Rating: 4.0, Tags: []string{"cli", "local", "open-source"}},
	}
}
