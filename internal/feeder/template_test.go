package feeder

import "testing"

func TestTemplateExpand(t *testing.T) {
	record := Record{"user_id": "42", "name": "alice"}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"single", "https://api.example.com/users/{{user_id}}", "https://api.example.com/users/42"},
		{"multiple", `{"id": {{user_id}}, "name": "{{name}}"}`, `{"id": 42, "name": "alice"}`},
		{"repeated", "{{name}}-{{name}}", "alice-alice"},
		{"spaces inside braces", "{{ user_id }}", "42"},
		{"missing field kept", "{{email}}/{{name}}", "{{email}}/alice"},
		{"no placeholders", "static", "static"},
		{"empty braces kept", "a{{}}b", "a{{}}b"},
		{"unterminated", "a{{name", "a{{name"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compile(tt.template).Expand(record); got != tt.want {
				t.Errorf("Expand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplateStatic(t *testing.T) {
	if !Compile("/health").Static() {
		t.Error("plain path should be static")
	}
	if Compile("/users/{{id}}").Static() {
		t.Error("placeholder path should not be static")
	}
	if got := Compile("/users/{{id}}").String(); got != "/users/{{id}}" {
		t.Errorf("String() = %q", got)
	}
}
