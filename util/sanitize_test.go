package util

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"foo-bar_1.0":  "foo-bar_1.0",
		"foo/bar":      "foo_bar",
		"foo bar:baz":  "foo_bar_baz",
		"openssl@1.1.1": "openssl_1.1.1",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeName(in), "SanitizeName(%q)", in)
	}
}

func TestSyncedWriterSerializesConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewSyncedWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := fmt.Fprintf(w, "line-%d\n", n)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 50, lines, "expected every goroutine's write to land intact")
}
