package pipeline

import (
	"errors"
	"os"
	"testing"
)

func TestScratchDirRemovedOnSuccess(t *testing.T) {
	var dir string
	err := withScratchDir(false, func(d string) error {
		dir = d
		if _, err := os.Stat(d); err != nil {
			t.Fatalf("scratch dir not usable: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("scratch dir %s still exists after success", dir)
	}
}

func TestScratchDirRemovedOnError(t *testing.T) {
	var dir string
	sentinel := errors.New("mid-pipeline failure")
	err := withScratchDir(false, func(d string) error {
		dir = d
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("scratch dir %s still exists after error", dir)
	}
}

func TestScratchDirKept(t *testing.T) {
	var dir string
	err := withScratchDir(true, func(d string) error {
		dir = d
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("scratch dir %s was removed despite keep-temp", dir)
	}
}
