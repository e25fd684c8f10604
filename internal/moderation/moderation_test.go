package moderation

import (
	"context"
	"testing"
)

func TestModerateRejectsPhoneNumber(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(), "call me at 9876543210 for the flat")
	if d.Accepted {
		t.Fatalf("expected rejection for embedded phone number")
	}
	if d.Category != CategoryPhone {
		t.Errorf("category = %v, want %v", d.Category, CategoryPhone)
	}
}

func TestModerateRejectsScamURL(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(), "looking for a room, dm via https://t.me/someone")
	if d.Accepted || d.Category != CategoryScamURL {
		t.Fatalf("expected scam_url rejection, got %+v", d)
	}
}

func TestModerateRejectsTooManyURLs(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(),
		"room available see https://a.example.com https://b.example.com https://c.example.com")
	if d.Accepted || d.Category != CategoryURLCount {
		t.Fatalf("expected too_many_urls rejection, got %+v", d)
	}
}

func TestModerateRejectsProfanity(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(), "this shit apartment is available for rent")
	if d.Accepted || d.Category != CategoryProfanity {
		t.Fatalf("expected profanity rejection, got %+v", d)
	}
}

func TestModerateRejectsSpamPhrase(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(), "nice flat available, dm me for details")
	if d.Accepted || d.Category != CategorySpam {
		t.Fatalf("expected spam rejection, got %+v", d)
	}
}

func TestModerateRejectsExcessiveCaps(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(), "URGENT ROOM AVAILABLE NOW CALL IMMEDIATELY")
	if d.Accepted || d.Category != CategoryPattern {
		t.Fatalf("expected suspicious_pattern rejection, got %+v", d)
	}
}

func TestModerateRejectsCharacterRepetition(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(), "room available sooooooooon for rent")
	if d.Accepted || d.Category != CategoryPattern {
		t.Fatalf("expected suspicious_pattern rejection, got %+v", d)
	}
}

func TestModerateRejectsOffTopic(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(), "does anyone know a good recipe for pasta tonight")
	if d.Accepted || d.Category != CategoryOffTopic {
		t.Fatalf("expected off_topic rejection, got %+v", d)
	}
}

func TestModerateAcceptsRelevantMessage(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(), "2bhk flat available for rent near the station, furnished")
	if !d.Accepted {
		t.Fatalf("expected acceptance, got rejection: %+v", d)
	}
	if d.Sanitized == "" {
		t.Errorf("expected sanitized text to be populated on acceptance")
	}
}

func TestModerateShortMessagesSkipRelevanceCheck(t *testing.T) {
	m := New("")
	d := m.Moderate(context.Background(), "still available")
	if !d.Accepted {
		t.Fatalf("expected short message to bypass relevance check, got %+v", d)
	}
}

func TestModerateIsIdempotentAfterSanitization(t *testing.T) {
	m := New("")
	text := "2bhk flat available for rent <b>near</b> the station, furnished"
	first := m.Moderate(context.Background(), text)
	if !first.Accepted {
		t.Fatalf("expected first pass to accept, got %+v", first)
	}
	second := m.Moderate(context.Background(), first.Sanitized)
	if !second.Accepted {
		t.Fatalf("expected re-moderation of sanitized text to accept, got %+v", second)
	}
}

func TestSanitizeStripsHTMLTags(t *testing.T) {
	got := Sanitize("<script>alert(1)</script>room available &amp; furnished")
	if got != "alert(1)room available & furnished" {
		t.Errorf("Sanitize() = %q", got)
	}
}
