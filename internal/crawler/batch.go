package crawler

import "strings"

// MaxLookupBatch is the largest ID batch the profile lookup endpoint accepts.
const MaxLookupBatch = 100

// ChunkIDs splits ids into sequential batches of size, preserving order. The
// final batch holds the remainder. Sizes outside (0, MaxLookupBatch] are clamped.
func ChunkIDs(ids []string, size int) [][]string {
	if size <= 0 || size > MaxLookupBatch {
		size = MaxLookupBatch
	}
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}

const disallowedHandleChars = " !#"

// ValidHandle reports whether a requested handle can be crawled. Handles with a
// space, '!' or '#' are rejected, as are empty ones.
func ValidHandle(handle string) bool {
	h := strings.TrimPrefix(handle, "@")
	return h != "" && !strings.ContainsAny(handle, disallowedHandleChars)
}

// NormalizeHandle strips a leading '@'.
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(handle, "@")
}
