package utils

import "golang.org/x/crypto/bcrypt"

// HashSecret hashes an exam client secret for storage.
func HashSecret(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckSecret reports whether plain matches the stored hash. An empty hash
// never matches.
func CheckSecret(hashed, plain string) bool {
	if hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
