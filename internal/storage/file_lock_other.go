//go:build !unix

package storage

import "os"

// Non-unix builds rely on the in-process lock only.
func tryFlock(*os.File) (bool, error) { return true, nil }

func unlockFlock(*os.File) {}
