package maskfield

import "testing"

func TestSensitive(t *testing.T) {
	for _, key := range []string{"password", "new_password", "SecretKey", "access_token", "Authorization", "api_key"} {
		if !Sensitive(key) {
			t.Errorf("Sensitive(%q) = false, want true", key)
		}
	}
	for _, key := range []string{"username", "region", "tenant", "description"} {
		if Sensitive(key) {
			t.Errorf("Sensitive(%q) = true, want false", key)
		}
	}
}

func TestParamsMasksAndCopies(t *testing.T) {
	in := map[string]interface{}{
		"username": "alice",
		"password": "hunter2",
		"options": map[string]interface{}{
			"api_key": "abc123",
			"region":  "eu-central-1",
		},
	}
	out := Params(in)

	if out["password"] != "***REDACTED***" {
		t.Errorf("password = %v", out["password"])
	}
	if out["username"] != "alice" {
		t.Errorf("username = %v", out["username"])
	}
	nested := out["options"].(map[string]interface{})
	if nested["api_key"] != "***REDACTED***" {
		t.Errorf("nested api_key = %v", nested["api_key"])
	}
	if nested["region"] != "eu-central-1" {
		t.Errorf("nested region = %v", nested["region"])
	}

	// input must stay untouched
	if in["password"] != "hunter2" {
		t.Error("input map was mutated")
	}
}

func TestParamsWalksLists(t *testing.T) {
	in := map[string]interface{}{
		"accounts": []interface{}{
			map[string]interface{}{"name": "prod", "secret_key": "sk-123"},
			"plain-entry",
		},
	}
	out := Params(in)

	list := out["accounts"].([]interface{})
	if len(list) != 2 {
		t.Fatalf("list length = %d", len(list))
	}
	first := list[0].(map[string]interface{})
	if first["secret_key"] != "***REDACTED***" {
		t.Errorf("secret_key in list element = %v", first["secret_key"])
	}
	if first["name"] != "prod" {
		t.Errorf("name in list element = %v", first["name"])
	}
	if list[1] != "plain-entry" {
		t.Errorf("scalar list element = %v", list[1])
	}
}

func TestParamsNil(t *testing.T) {
	if Params(nil) != nil {
		t.Error("Params(nil) should be nil")
	}
}
