//go:build !unix

package store

import "os"

// Advisory locking is only implemented on unix; elsewhere the single-writer
// assumption is left to the operator.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
