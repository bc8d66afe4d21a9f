package engine

import "testing"

func TestDetect(t *testing.T) {
	e, err := Detect(DetectConfig{BaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("Detect returned %T, want *OllamaEngine", e)
	}

	e, err = Detect(DetectConfig{Backend: "openai", BaseURL: "https://example.test/v1", APIKey: "k"})
	if err != nil {
		t.Fatalf("Detect(openai): %v", err)
	}
	if _, ok := e.(*OpenAIEngine); !ok {
		t.Errorf("Detect returned %T, want *OpenAIEngine", e)
	}

	if _, err := Detect(DetectConfig{Backend: "openai"}); err == nil {
		t.Error("expected error for openai without API key")
	}
	if _, err := Detect(DetectConfig{Backend: "mlx"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
