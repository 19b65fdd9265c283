// Package vectorize segments document text into bounded chunks and embeds
// them. Chunking is a pure function of the text and the chunk policy, so a
// re-run of the same document always produces the same chunk set and the
// same vector ids. A document's embedding is all-or-nothing: one failed
// chunk fails the whole document.
package vectorize
