package format

import "testing"

func TestEscapeMarkdown(t *testing.T) {
	if got := EscapeMarkdown("user_name *bold* [x]"); got != `user\_name \*bold\* \[x]` {
		t.Fatalf("unexpected escape: %s", got)
	}
	if got := Code("+1555`1234"); got != "`+15551234`" {
		t.Fatalf("unexpected code span: %s", got)
	}
}
