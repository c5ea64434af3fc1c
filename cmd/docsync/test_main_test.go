package main

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	tempHome, err := os.MkdirTemp("", "docsync-cmd-test-")
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = os.RemoveAll(tempHome)
	}()

	setEnvOrPanic := func(key, value string) {
		if err := os.Setenv(key, value); err != nil {
			panic(err)
		}
	}

	setEnvOrPanic("HOME", tempHome)
	setEnvOrPanic("DOCSYNC_HOME", tempHome)

	os.Exit(m.Run())
}
