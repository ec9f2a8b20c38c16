package verify_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mockforge/core/internal/verify"
	"github.com/mockforge/core/pkg/models"
)

func exchange(method, path string, status int) models.Exchange {
	return models.Exchange{
		Request:  models.RecordedRequest{Method: method, Path: path},
		Response: &models.RecordedResponse{StatusCode: status},
	}
}

func TestMatches_MethodAndExactPath(t *testing.T) {
	ex := exchange("GET", "/api/users", 200)
	require.True(t, verify.Matches(models.VerificationRequest{Method: "get", PathPattern: "/api/users"}, ex.Request, ex.Response))
	require.False(t, verify.Matches(models.VerificationRequest{Method: "POST", PathPattern: "/api/users"}, ex.Request, ex.Response))
}

func TestMatches_WildcardSingleSegment(t *testing.T) {
	req := models.VerificationRequest{PathPattern: "/api/*/profile"}
	require.True(t, verify.Matches(req, models.RecordedRequest{Path: "/api/42/profile"}, nil))
	require.False(t, verify.Matches(req, models.RecordedRequest{Path: "/api/42/settings"}, nil))
}

func TestMatches_WildcardDoubleStarZeroOrMore(t *testing.T) {
	req := models.VerificationRequest{PathPattern: "/api/**"}
	require.True(t, verify.Matches(req, models.RecordedRequest{Path: "/api/"}, nil))
	require.True(t, verify.Matches(req, models.RecordedRequest{Path: "/api/a/b/c"}, nil))
}

func TestMatches_RegexFallbackWhenNoWildcardChars(t *testing.T) {
	req := models.VerificationRequest{PathPattern: `^/api/\d+$`}
	require.True(t, verify.Matches(req, models.RecordedRequest{Path: "/api/123"}, nil))
	require.False(t, verify.Matches(req, models.RecordedRequest{Path: "/api/abc"}, nil))
}

func TestMatches_QueryAllKeysMustMatch(t *testing.T) {
	req := models.VerificationRequest{Query: map[string]string{"page": "2"}}
	require.True(t, verify.Matches(req, models.RecordedRequest{Query: map[string]string{"page": "2", "limit": "10"}}, nil))
	require.False(t, verify.Matches(req, models.RecordedRequest{Query: map[string]string{"page": "1"}}, nil))
}

func TestMatches_HeadersCaseInsensitive(t *testing.T) {
	req := models.VerificationRequest{Headers: map[string]string{"Content-Type": "application/json"}}
	rr := models.RecordedRequest{Headers: map[string][]string{"content-type": {"application/json"}}}
	require.True(t, verify.Matches(req, rr, nil))
}

func TestMatches_BodyPatternRegexThenExactFallback(t *testing.T) {
	req := models.VerificationRequest{BodyPattern: `"id":\d+`}
	require.True(t, verify.Matches(req, models.RecordedRequest{Body: []byte(`{"id":5}`)}, nil))

	exact := models.VerificationRequest{BodyPattern: "[[["} // invalid regex, falls back to exact match
	require.True(t, verify.Matches(exact, models.RecordedRequest{Body: []byte("[[[")}, nil))
	require.False(t, verify.Matches(exact, models.RecordedRequest{Body: []byte("other")}, nil))
}

func TestMatches_BodyPatternPrefersResponseBodyWhenPresent(t *testing.T) {
	req := models.VerificationRequest{BodyPattern: "ok"}
	resp := &models.RecordedResponse{Body: []byte("ok")}
	require.True(t, verify.Matches(req, models.RecordedRequest{Body: []byte("not-ok-request-body")}, resp))
}

func TestCountMatches(t *testing.T) {
	log := []models.Exchange{
		exchange("GET", "/api/users", 200),
		exchange("GET", "/api/users", 200),
		exchange("POST", "/api/users", 201),
	}
	n := verify.CountMatches(models.VerificationRequest{Method: "GET", PathPattern: "/api/users"}, log)
	require.Equal(t, 2, n)
}

func TestVerify_ExactlyAtLeastAtMostNever(t *testing.T) {
	log := []models.Exchange{
		exchange("GET", "/api/users", 200),
		exchange("GET", "/api/users", 200),
	}
	req := models.VerificationRequest{Method: "GET", PathPattern: "/api/users"}
	require.True(t, verify.Verify(req, models.Exactly(2), log))
	require.True(t, verify.Verify(req, models.AtLeast(1), log))
	require.True(t, verify.Verify(req, models.AtMost(2), log))
	require.False(t, verify.Verify(req, models.AtMost(1), log))

	none := models.VerificationRequest{Method: "DELETE"}
	require.True(t, verify.Verify(none, models.Never(), log))
	require.True(t, verify.Verify(req, models.AtLeastOnce(), log))
}

func TestVerifySequence_SkipsNonMatchingEntriesBetween(t *testing.T) {
	log := []models.Exchange{
		exchange("GET", "/api/login", 200),
		exchange("GET", "/api/noise", 200),
		exchange("POST", "/api/orders", 201),
		exchange("GET", "/api/noise", 200),
		exchange("GET", "/api/orders/1", 200),
	}
	patterns := []models.VerificationRequest{
		{Method: "GET", PathPattern: "/api/login"},
		{Method: "POST", PathPattern: "/api/orders"},
		{Method: "GET", PathPattern: "/api/orders/*"},
	}
	require.True(t, verify.VerifySequence(patterns, log))
}

func TestVerifySequence_FailsWhenOutOfOrder(t *testing.T) {
	log := []models.Exchange{
		exchange("POST", "/api/orders", 201),
		exchange("GET", "/api/login", 200),
	}
	patterns := []models.VerificationRequest{
		{Method: "GET", PathPattern: "/api/login"},
		{Method: "POST", PathPattern: "/api/orders"},
	}
	require.False(t, verify.VerifySequence(patterns, log))
}

func TestVerifySequence_EmptyPatternsTriviallySatisfied(t *testing.T) {
	require.True(t, verify.VerifySequence(nil, []models.Exchange{exchange("GET", "/x", 200)}))
}
