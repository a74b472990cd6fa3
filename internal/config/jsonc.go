// Package config loads herald.jsonc, the single configuration file.
//
// jsonc.go - Comment stripping for the .jsonc format

package config

// StripJSONComments removes // line and /* */ block comments so the
// config can carry annotations the JSON decoder would reject. Comment
// markers inside string literals are left alone, and the newline that
// ends a line comment is kept so decode errors still point at the
// right line.
func StripJSONComments(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString := false

	for i := 0; i < len(data); i++ {
		c := data[i]

		if inString {
			out = append(out, c)
			if c == '\\' && i+1 < len(data) {
				// Escaped character, including \" and \\
				i++
				out = append(out, data[i])
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			out = append(out, c)

		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out = append(out, '\n')
			}

		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			i++ // lands on the closing '/', or runs off an unterminated comment

		default:
			out = append(out, c)
		}
	}
	return out
}
