package redis

import "testing"

func TestKeyNamespace(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"lazymarket", []string{"lock:", "market:writer"}, "lazymarket:lock:market:writer"},
		{"lazymarket:", []string{"nonce:", "0xabc"}, "lazymarket:nonce:0xabc"},
		{"", []string{"market:events"}, "market:events"},
	}
	for _, tt := range tests {
		if got := NewFromRedis(nil, tt.prefix).key(tt.parts...); got != tt.want {
			t.Errorf("key(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
		}
	}
}

func TestStreamPayload(t *testing.T) {
	if got, ok := streamPayload(map[string]any{"payload": `{"type":"bid_placed"}`}); !ok || string(got) != `{"type":"bid_placed"}` {
		t.Fatalf("string payload = %q, %v", got, ok)
	}
	if got, ok := streamPayload(map[string]any{"payload": []byte("x")}); !ok || string(got) != "x" {
		t.Fatalf("byte payload = %q, %v", got, ok)
	}
	if _, ok := streamPayload(map[string]any{"other": "x"}); ok {
		t.Fatalf("missing payload field accepted")
	}
}
