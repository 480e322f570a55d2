package activitypub

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"testing"
	"time"
)

func generateTestKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	return privateKey
}

// calculateDigest calculates the SHA-256 digest header value for a body
func calculateDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

func privateKeyToPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func publicKeyToPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	}))
}

func TestParsePrivateKey(t *testing.T) {
	privateKey := generateTestKeyPair(t)

	parsed, err := ParsePrivateKey(privateKeyToPEM(privateKey))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePrivateKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParsePublicKey(t *testing.T) {
	privateKey := generateTestKeyPair(t)

	parsed, err := ParsePublicKey(publicKeyToPEM(t, &privateKey.PublicKey))
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestSignAndVerifyRequest(t *testing.T) {
	privateKey := generateTestKeyPair(t)
	keyId := "https://gomphos.example/users/alice#main-key"

	body := []byte(`{"type":"Create"}`)
	req, err := http.NewRequest("POST", "https://remote.example/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "remote.example")

	if err := SignRequest(req, body, privateKey, keyId); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	if req.Header.Get("Signature") == "" {
		t.Fatal("Expected Signature header to be set")
	}
	if got := req.Header.Get("Digest"); got != calculateDigest(body) {
		t.Errorf("Expected Digest %s, got %s", calculateDigest(body), got)
	}

	actorURI, err := VerifyRequest(req, publicKeyToPEM(t, &privateKey.PublicKey))
	if err != nil {
		t.Fatalf("VerifyRequest failed: %v", err)
	}
	if actorURI != "https://gomphos.example/users/alice" {
		t.Errorf("Expected actor URI without fragment, got %s", actorURI)
	}
}

func TestVerifyRequestWrongKey(t *testing.T) {
	privateKey := generateTestKeyPair(t)
	otherKey := generateTestKeyPair(t)

	body := []byte(`{}`)
	req, _ := http.NewRequest("POST", "https://remote.example/inbox", bytes.NewReader(body))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "remote.example")

	if err := SignRequest(req, body, privateKey, "https://gomphos.example/users/alice#main-key"); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	if _, err := VerifyRequest(req, publicKeyToPEM(t, &otherKey.PublicKey)); err == nil {
		t.Error("Expected verification with the wrong key to fail")
	}
}

func TestSigningKeyId(t *testing.T) {
	privateKey := generateTestKeyPair(t)
	keyId := "https://gomphos.example/users/alice#main-key"

	body := []byte(`{}`)
	req, _ := http.NewRequest("POST", "https://remote.example/inbox", bytes.NewReader(body))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "remote.example")

	if err := SignRequest(req, body, privateKey, keyId); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	got, err := SigningKeyId(req)
	if err != nil {
		t.Fatalf("SigningKeyId failed: %v", err)
	}
	if got != keyId {
		t.Errorf("Expected keyId %s, got %s", keyId, got)
	}
}
