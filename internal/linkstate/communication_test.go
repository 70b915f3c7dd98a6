package linkstate_test

import (
	"testing"

	"github.com/ocvrouter/hostif/internal/linkstate"
)

func TestFormatAndParseLinkDownCommunication(t *testing.T) {
	t.Parallel()

	comm := linkstate.FormatLinkDownCommunication("eth0")

	ifName, ok := linkstate.ParseLinkDownCommunication(comm)
	if !ok {
		t.Fatal("expected ParseLinkDownCommunication to recognize its own format")
	}
	if ifName != "eth0" {
		t.Errorf("ifName = %q, want %q", ifName, "eth0")
	}
}

func TestParseLinkDownCommunicationRejectsUnrelated(t *testing.T) {
	t.Parallel()

	_, ok := linkstate.ParseLinkDownCommunication("administratively shut down")
	if ok {
		t.Fatal("expected ParseLinkDownCommunication to reject unrelated strings")
	}
}
