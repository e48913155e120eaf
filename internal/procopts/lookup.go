package procopts

import "github.com/gocoredump/procdump/internal/procfs"

// defaultLookupPID is the production implementation of lookupPID: it
// checks /proc through procfs.LookupByPID (procfs has no reverse
// dependency on config).
func defaultLookupPID(pid int) (bool, error) {
	return procfs.LookupByPID(pid)
}
