// Package llm defines the generation client used by the execution pipeline
// and hosts the provider adapters (OpenAI, Anthropic, Gemini and a local
// script bridge). Providers only translate requests; timeouts, failure
// accounting and fallbacks are applied by the pipeline's circuit breakers.
package llm
