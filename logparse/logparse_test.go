package logparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSuccess(t *testing.T) {
	log := "building...\n#BUTIDO:STATE:OK\n"
	p := Parse(strings.NewReader(log))
	assert.Equal(t, Success, p.Verdict)
}

func TestParseErrored(t *testing.T) {
	log := "building...\n#BUTIDO:STATE:ERR\n"
	p := Parse(strings.NewReader(log))
	assert.Equal(t, Errored, p.Verdict)
}

func TestParseErroredDominatesOK(t *testing.T) {
	log := "#BUTIDO:STATE:OK\n#BUTIDO:STATE:ERR\n"
	p := Parse(strings.NewReader(log))
	assert.Equal(t, Errored, p.Verdict, "expected Errored to dominate")
}

func TestParseEmptyIsUnknown(t *testing.T) {
	p := Parse(strings.NewReader(""))
	assert.Equal(t, Unknown, p.Verdict, "expected Unknown for empty log")
}

func TestParsePlainTextIsUnknown(t *testing.T) {
	p := Parse(strings.NewReader("just some output\nno markers here\n"))
	assert.Equal(t, Unknown, p.Verdict)
}

func TestVerdictIsTotal(t *testing.T) {
	for _, log := range []string{"", "plain", "#BUTIDO:STATE:OK", "#BUTIDO:STATE:ERR"} {
		v := Parse(strings.NewReader(log)).Verdict
		assert.Containsf(t, []Verdict{Success, Errored, Unknown}, v, "verdict %v outside total range for log %q", v, log)
	}
}
