package integrity

import (
	"testing"
	"time"

	"github.com/epam/modular-api/internal/models"
)

func testUser() *models.User {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.User{
		Username:             "alice",
		PasswordHash:         "$2a$12$abcdefghijklmnopqrstuv",
		State:                models.StateActivated,
		Groups:               []string{"ops"},
		Meta:                 models.UserMeta{AllowedValues: map[string][]string{"region": {"eu-central-1"}}},
		CreationDate:         created,
		LastModificationDate: created,
	}
}

func TestSumDeterministic(t *testing.T) {
	s := New("secret")
	u := testUser()
	h1, err := s.SumRecord(u)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	h2, err := s.SumRecord(u)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected hex sha256 length 64, got %d", len(h1))
	}
}

func TestSumNormalizesNumberTypes(t *testing.T) {
	s := New("secret")
	asInt, err := s.Sum(map[string]interface{}{"limit": 5})
	if err != nil {
		t.Fatal(err)
	}
	asFloat, err := s.Sum(map[string]interface{}{"limit": float64(5)})
	if err != nil {
		t.Fatal(err)
	}
	if asInt != asFloat {
		t.Error("int and float64 forms of the same JSON number hash differently")
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	s := New("secret")
	u := testUser()
	h, err := s.SumRecord(u)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Verify(u, h) {
		t.Fatal("freshly computed hash failed verification")
	}

	u.Groups = append(u.Groups, "admins")
	if s.Verify(u, h) {
		t.Fatal("group tamper not detected")
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	u := testUser()
	h, err := New("key-a").SumRecord(u)
	if err != nil {
		t.Fatal(err)
	}
	if New("key-b").Verify(u, h) {
		t.Fatal("hash produced under a different key verified")
	}
}

func TestVerifyEmptyStored(t *testing.T) {
	if New("secret").Verify(testUser(), "") {
		t.Fatal("empty stored hash must not verify")
	}
}

func TestStatus(t *testing.T) {
	if Status(true) != models.ConsistencyOK {
		t.Error("Status(true)")
	}
	if Status(false) != models.ConsistencyCompromised {
		t.Error("Status(false)")
	}
}
