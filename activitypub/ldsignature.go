package activitypub

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gomphos/gomphos/domain"
)

// Linked-Data signatures let a relayed activity carry its own proof of
// origin, independent of the HTTP signature of whoever forwarded it.
// Only the RsaSignature2017 suite is supported, anything else fails
// verification.

const (
	ldSignatureType    = "RsaSignature2017"
	identityContextURI = "https://w3id.org/identity/v1"

	// created must serialize with a literal Z suffix; RFC3339 would
	// emit a numeric offset on a non-UTC clock.
	ldCreatedLayout = "2006-01-02T15:04:05Z"
)

// SignJsonLd embeds a signature object into the document, in place.
// creator names the signing key, e.g. ".../users/alice#main-key".
func SignJsonLd(doc map[string]interface{}, creator string, privateKey *rsa.PrivateKey) error {
	options := map[string]interface{}{
		"type":    ldSignatureType,
		"creator": creator,
		"created": time.Now().UTC().Format(ldCreatedLayout),
	}

	toSign, err := signedValue(options, doc)
	if err != nil {
		return err
	}

	hashed := sha256.Sum256([]byte(toSign))
	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return fmt.Errorf("failed to sign document: %w", err)
	}

	options["signatureValue"] = base64.StdEncoding.EncodeToString(sig)
	doc["signature"] = options
	return nil
}

// VerifyJsonLdActor checks the embedded signature of a document against
// the claimed actor's key. Verification failures return nil rather than
// an error: a payload with a bad embedded signature is treated the same
// as one with no embedded signature at all.
func VerifyJsonLdActor(actor *domain.Account, doc map[string]interface{}) *domain.Account {
	if actor == nil || actor.PublicKeyPem == "" {
		return nil
	}

	signature, ok := doc["signature"].(map[string]interface{})
	if !ok {
		return nil
	}

	sigType, _ := signature["type"].(string)
	if sigType != ldSignatureType {
		log.Printf("LdSignature: Unsupported signature type %q from %s", sigType, actor.ActorURI)
		return nil
	}

	creator, _ := signature["creator"].(string)
	if !strings.HasPrefix(strings.Split(creator, "#")[0], actor.ActorURI) {
		return nil
	}

	sigValue, _ := signature["signatureValue"].(string)
	rawSig, err := base64.StdEncoding.DecodeString(sigValue)
	if err != nil {
		return nil
	}

	options := make(map[string]interface{}, len(signature))
	for k, v := range signature {
		options[k] = v
	}

	toVerify, err := signedValue(options, doc)
	if err != nil {
		return nil
	}

	pubKey, err := ParsePublicKey(actor.PublicKeyPem)
	if err != nil {
		return nil
	}

	hashed := sha256.Sum256([]byte(toVerify))
	if err := rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, hashed[:], rawSig); err != nil {
		return nil
	}

	return actor
}

// signedValue builds the string both sides sign: the hex digest of the
// signature options followed by the hex digest of the document, each
// canonicalized without the fields excluded from signing.
func signedValue(options, doc map[string]interface{}) (string, error) {
	opts := make(map[string]interface{}, len(options)+1)
	for k, v := range options {
		if k == "type" || k == "id" || k == "signatureValue" {
			continue
		}
		opts[k] = v
	}
	opts["@context"] = identityContextURI

	optionsHash, err := canonicalHash(opts)
	if err != nil {
		return "", err
	}

	unsigned := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == "signature" {
			continue
		}
		unsigned[k] = v
	}

	documentHash, err := canonicalHash(unsigned)
	if err != nil {
		return "", err
	}

	return optionsHash + documentHash, nil
}

// canonicalHash hex-encodes the SHA-256 of the canonical JSON form.
// encoding/json writes map keys in sorted order at every level, which
// gives a stable byte form regardless of how the document was built.
func canonicalHash(doc map[string]interface{}) (string, error) {
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize document: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
