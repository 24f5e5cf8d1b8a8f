package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

const (
	signAlgorithm = "AWS4-HMAC-SHA256"
	signService   = "s3"
	amzDateFormat = "20060102T150405Z"
)

// Signer computes AWS signature v4 request signatures. It is pure and
// stateless: every request is signed fresh with the timestamp it is given.
type Signer struct {
	AccessKey string
	SecretKey string
	Region    string
}

// SignedHeaders holds the authorization values for one request.
type SignedHeaders struct {
	Authorization string
	AmzDate       string
}

// Sign produces the Authorization header for the given request parts.
// headers must already contain every header to be signed (host, x-amz-date,
// x-amz-content-sha256); payloadHash is the hex sha256 of the request body.
func (s *Signer) Sign(method, path string, query map[string]string, headers map[string]string, payloadHash string, t time.Time) SignedHeaders {
	t = t.UTC()
	amzDate := t.Format(amzDateFormat)
	dateStamp := t.Format("20060102")

	canonical, signedList := canonicalRequest(method, path, query, headers, payloadHash)
	scope := dateStamp + "/" + s.Region + "/" + signService + "/aws4_request"

	toSign := strings.Join([]string{
		signAlgorithm,
		amzDate,
		scope,
		hexSHA256([]byte(canonical)),
	}, "\n")

	key := s.signingKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(key, toSign))

	auth := signAlgorithm +
		" Credential=" + s.AccessKey + "/" + scope +
		", SignedHeaders=" + signedList +
		", Signature=" + signature

	return SignedHeaders{Authorization: auth, AmzDate: amzDate}
}

// signingKey derives the per-day signing key through the four nested HMAC
// steps: date, region, service, terminator.
func (s *Signer) signingKey(dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.SecretKey), dateStamp)
	kRegion := hmacSHA256(kDate, s.Region)
	kService := hmacSHA256(kRegion, signService)
	return hmacSHA256(kService, "aws4_request")
}

// canonicalRequest assembles the canonical request string and the
// semicolon-joined signed header list.
func canonicalRequest(method, path string, query map[string]string, headers map[string]string, payloadHash string) (string, string) {
	canonHeaders, signedList := canonicalHeaders(headers)
	parts := []string{
		strings.ToUpper(method),
		canonicalURI(path),
		canonicalQuery(query),
		canonHeaders,
		signedList,
		payloadHash,
	}
	return strings.Join(parts, "\n"), signedList
}

// canonicalURI percent-encodes each path segment independently. Slashes
// separating segments are preserved; "~" is never encoded.
func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = uriEncode(seg, false)
	}
	out := strings.Join(segments, "/")
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

// canonicalQuery encodes keys and values and sorts pairs lexicographically
// by their encoded key.
func canonicalQuery(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(query))
	for k, v := range query {
		pairs = append(pairs, pair{uriEncode(k, true), uriEncode(v, true)})
	}
	// Sort by encoded key, not the joined "k=v" string: '=' would otherwise
	// order "key" after "key2".
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

// canonicalHeaders lower-cases names, collapses value whitespace, sorts by
// name and terminates every header with a newline.
func canonicalHeaders(headers map[string]string) (string, string) {
	names := make([]string, 0, len(headers))
	byName := make(map[string]string, len(headers))
	for k, v := range headers {
		name := strings.ToLower(strings.TrimSpace(k))
		names = append(names, name)
		byName[name] = collapseSpaces(strings.TrimSpace(v))
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(byName[name])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// uriEncode implements the sigv4 variant of percent-encoding: unreserved
// characters (A-Z a-z 0-9 - _ . ~) pass through, everything else becomes
// %XX. When encodeSlash is false, "/" passes through as well.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			b.WriteString("%")
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashPayload returns the hex sha256 of a request body for signing.
func HashPayload(data []byte) string {
	return hexSHA256(data)
}

// EmptyPayloadHash is the hex sha256 of an empty body (GET/HEAD/DELETE).
const EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
