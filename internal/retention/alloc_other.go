//go:build !unix

package retention

import "io/fs"

func allocatedBytes(fi fs.FileInfo) int64 {
	return fi.Size()
}
