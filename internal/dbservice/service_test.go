package dbservice

import (
	"encoding/json"
	"testing"
)

func TestDatabaseReady(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"", true},
		{"ready", true},
		{"created", true},
		{"creating", false},
		{"pending", false},
	}
	for _, tt := range tests {
		if got := (Database{Name: "db", Status: tt.status}).Ready(); got != tt.want {
			t.Errorf("Ready() with status %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestQueryResultColumn(t *testing.T) {
	r := QueryResult{Columns: []string{"id", "content", "score"}}
	if got := r.Column("score"); got != 2 {
		t.Errorf("Column(score) = %d, want 2", got)
	}
	if got := r.Column("missing"); got != -1 {
		t.Errorf("Column(missing) = %d, want -1", got)
	}
}

func TestAsString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"abc", "abc"},
		{[]byte("raw"), "raw"},
		{int64(42), "42"},
		{float64(7), "7"},
		{json.Number("13"), "13"},
	}
	for _, tt := range tests {
		if got := AsString(tt.in); got != tt.want {
			t.Errorf("AsString(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAsFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{nil, 0},
		{float64(0.5), 0.5},
		{int64(3), 3},
		{json.Number("1.25"), 1.25},
		{"2.5", 2.5},
	}
	for _, tt := range tests {
		got, err := AsFloat(tt.in)
		if err != nil {
			t.Fatalf("AsFloat(%#v): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("AsFloat(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := AsFloat(struct{}{}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
