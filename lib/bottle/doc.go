// Package bottle implements the self-describing message envelope used as the
// payload of every port message and every RPC exchange. A Bottle is an ordered,
// nestable list of typed values with two interchangeable encodings: a compact
// binary form used on binary carriers and a human-readable text form used on
// text carriers, in logs and by operators typing commands interactively.
//
// The package focuses on:
//   - A small closed set of value kinds (int32, float64, string, vocab, blob, list)
//   - Structural equality and deep copies
//   - Lossless round trips through both encodings
//
// Key Components:
//
//   - Value: one typed atom or a nested Bottle. Values are immutable once built.
//
//   - Bottle: the ordered container. Insertion order is preserved on the wire.
//
//   - Vocab: a 4-character keyword packed into 32 bits, used as compact command
//     names (e.g. [add], [del], [list]).
//
// Binary Encoding:
//
//	A list is written as a tag word (LIST, optionally or-ed with the common
//	element tag when every element has the same atom type), an element count
//	and the elements. All words are 32-bit little endian. Strings and blobs are
//	length prefixed, strings include a trailing NUL byte.
//
// Text Encoding:
//
//	5 "hello \"my\" \\friend" 3.0 [set] (nested 1 2) {0 255}
//
// Tokens are whitespace separated; parentheses nest lists, [xyz] is a vocab,
// {..} is a blob given as decimal bytes. Numbers are typed automatically:
// integers (decimal or 0x hex) become int32, everything with a fraction or an
// exponent becomes float64.
package bottle
