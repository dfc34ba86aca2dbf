package pager

import "os"

// readFileRange and fileSize back the inspect CLI's read-only tools, which
// deliberately open files with the standard library directly rather than
// through vfs.VFS or a live Pager — they must work on a database that a
// running process does not currently have open.

func readFileRange(path string, offset int64, length int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
