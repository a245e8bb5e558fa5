package broker

import "testing"

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"transfers.>", "transfers.consumer.transfer.prepare", true},
		{"transfers.>", "transfers", false},
		{"transfers.>", "negotiations.provider.negotiation.agreement.agree", false},
		{"transfers.*.transfer.prepare", "transfers.provider.transfer.prepare", true},
		{"transfers.*", "transfers.consumer.transfer.prepare", false},
		{"transfers.consumer.transfer.start", "transfers.consumer.transfer.start", true},
		{"transfers.consumer.transfer.start", "transfers.consumer.transfer", false},
		{"transfers.>.prepare", "transfers.consumer.prepare", false},
		{">", "anything.at.all", true},
		{"", "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.subject, func(t *testing.T) {
			if got := MatchSubject(tt.pattern, tt.subject); got != tt.want {
				t.Errorf("MatchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
			}
		})
	}
}

func TestSubjectPrefix(t *testing.T) {
	if got := SubjectPrefix("transfers.consumer.transfer.prepare"); got != "transfers" {
		t.Errorf("Expected transfers, got %s", got)
	}
	if got := SubjectPrefix("single"); got != "single" {
		t.Errorf("Expected single, got %s", got)
	}
}
