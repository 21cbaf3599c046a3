package index

import "strconv"

// ChunkID returns the deterministic id of chunk idx of noteID.
func ChunkID(noteID string, idx int) string {
	return noteID + "#" + strconv.Itoa(idx)
}
