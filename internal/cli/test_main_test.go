package cli

import (
	"fmt"
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	tempHome, err := os.MkdirTemp("", "docsync-home-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp HOME: %v\n", err)
		os.Exit(1)
	}

	for _, key := range []string{"HOME", "DOCSYNC_HOME"} {
		if err := os.Setenv(key, tempHome); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set %s: %v\n", key, err)
			_ = os.RemoveAll(tempHome)
			os.Exit(1)
		}
	}

	code := m.Run()

	_ = os.RemoveAll(tempHome)
	os.Exit(code)
}
