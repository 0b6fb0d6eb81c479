package extract

import "strings"

// plainText reads a note as UTF-8. Invalid bytes become U+FFFD, a leading
// byte order mark is dropped and Windows line endings become "\n".
func plainText(content []byte) (string, error) {
	s := strings.ToValidUTF8(string(content), "\ufffd")
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ReplaceAll(s, "\r\n", "\n"), nil
}
