package util

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// CopyContentID copies r into w and returns the hex sha256 of the bytes
// copied, which is the document id for that content.
func CopyContentID(w io.Writer, r io.Reader) (id string, n int64, err error) {
	h := sha256.New()
	n, err = io.Copy(io.MultiWriter(w, h), r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ContentID is the document id of an in-memory payload.
func ContentID(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}
