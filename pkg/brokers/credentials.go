package brokers

import (
	"bufio"
	"io"
	"os"
	"strings"

	"brokerapi/pkg/crypto"
	"brokerapi/pkg/errors"
)

// Credentials is an API key/secret pair. It is a plain value: clients copy it
// at construction and never change it.
type Credentials struct {
	APIKey string
	Secret string
}

// IsZero reports whether no key has been provided.
func (c Credentials) IsZero() bool {
	return c.APIKey == "" && c.Secret == ""
}

// String hides the secret.
func (c Credentials) String() string {
	if c.IsZero() {
		return "Credentials{}"
	}
	return "Credentials{APIKey: " + maskKey(c.APIKey) + ", Secret: ***}"
}

// LoadCredentials reads a two-line key file: API key on the first line,
// secret on the second. Surrounding whitespace is trimmed.
func LoadCredentials(path string) (Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, NewError("credentials", "load", ErrAuth, errors.Wrap(err, "unable to read key file"))
	}
	defer f.Close()

	return ParseCredentials(f)
}

// LoadSealedCredentials reads a key file produced by crypto.Encryptor.Seal
// over the two-line key/secret text.
func LoadSealedCredentials(path string, enc *crypto.Encryptor) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, NewError("credentials", "load", ErrAuth, errors.Wrap(err, "unable to read key file"))
	}

	plain, err := enc.Open(string(data))
	if err != nil {
		return Credentials{}, NewError("credentials", "load", ErrAuth, errors.Wrap(err, "unable to decrypt key file"))
	}

	return ParseCredentials(strings.NewReader(plain))
}

// ParseCredentials reads the first two lines of r as key and secret.
func ParseCredentials(r io.Reader) (Credentials, error) {
	scanner := bufio.NewScanner(r)

	lines := make([]string, 0, 2)
	for len(lines) < 2 && scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, NewError("credentials", "parse", ErrAuth, err)
	}

	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return Credentials{}, NewError("credentials", "parse", ErrAuth,
			errors.New("key file must contain the API key and the secret on two lines"))
	}

	return Credentials{APIKey: lines[0], Secret: lines[1]}, nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}
