package signing

import "testing"

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"job_id":"01ABC"}`)

	token, err := Sign(body, "key-current")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(token, body, "key-current", ""); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerify_AcceptsNextKeyDuringRotation(t *testing.T) {
	body := []byte(`{"job_id":"01ABC"}`)

	token, err := Sign(body, "key-new")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Receiver still has the old key as current and the new one as next.
	if err := Verify(token, body, "key-old", "key-new"); err != nil {
		t.Fatalf("verify with next key: %v", err)
	}
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	body := []byte(`{"job_id":"01ABC"}`)

	token, err := Sign(body, "key-a")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(token, body, "key-b", "key-c"); err == nil {
		t.Fatalf("expected rejection with wrong keys")
	}
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	body := []byte(`{"job_id":"01ABC"}`)

	token, err := Sign(body, "key")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := []byte(`{"job_id":"01EVIL"}`)
	if err := Verify(token, tampered, "key", ""); err == nil {
		t.Fatalf("expected rejection of tampered body")
	}
}

func TestVerify_RejectsGarbageToken(t *testing.T) {
	if err := Verify("not-a-token", []byte("{}"), "key", ""); err == nil {
		t.Fatalf("expected rejection of malformed token")
	}
}
