package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"html"
	rnd "math/rand"
	"regexp"
	"strings"
	"time"
)

//go:embed version.txt
var embeddedVersion string

type RsaKeyPair struct {
	Private string
	Public  string
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

func RandomString(length int) string {
	rnd.Seed(time.Now().UnixNano())
	b := make([]byte, length)
	rnd.Read(b)
	return fmt.Sprintf("%x", b)[:length]
}

func NormalizeInput(text string) string {
	normalized := strings.Replace(text, "\n", " ", -1)
	normalized = html.EscapeString(normalized)
	return normalized
}

func DateTimeFormat() string {
	return "2006-01-02 15:04:05 CEST"
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

func GeneratePemKeypair() *RsaKeyPair {
	bitSize := 4096

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		panic(err)
	}

	pub := key.Public()

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PUBLIC KEY",
			Bytes: x509.MarshalPKCS1PublicKey(pub.(*rsa.PublicKey)),
		},
	)

	return &RsaKeyPair{Private: string(keyPEM[:]), Public: string(pubPEM[:])}
}

var (
	hashtagPattern = regexp.MustCompile(`(?:^|[^/\w])#([\p{L}\p{N}_]+)`)
	mentionPattern = regexp.MustCompile(`(?:^|[^/\w])@([a-zA-Z0-9_]+)(?:@([a-zA-Z0-9.\-]+[a-zA-Z0-9]+))?`)
	linkPattern    = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// ExtractHashtags returns the lowercased hashtag names found in text
func ExtractHashtags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)

	seen := make(map[string]bool)
	tags := make([]string, 0, len(matches))
	for _, match := range matches {
		name := strings.ToLower(match[1])
		if !seen[name] {
			seen[name] = true
			tags = append(tags, name)
		}
	}

	return tags
}

// ExtractMentions returns user@domain pairs mentioned in text, domain
// empty for bare @user mentions
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)

	seen := make(map[string]bool)
	mentions := make([]string, 0, len(matches))
	for _, match := range matches {
		acct := strings.ToLower(match[1])
		if match[2] != "" {
			acct = acct + "@" + strings.ToLower(match[2])
		}
		if !seen[acct] {
			seen[acct] = true
			mentions = append(mentions, acct)
		}
	}

	return mentions
}

// ExtractLinks returns the http(s) URLs found in text, trailing
// punctuation stripped
func ExtractLinks(text string) []string {
	matches := linkPattern.FindAllString(text, -1)

	seen := make(map[string]bool)
	links := make([]string, 0, len(matches))
	for _, link := range matches {
		link = strings.TrimRight(link, ".,;:!?)")
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	}

	return links
}
