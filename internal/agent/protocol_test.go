package agent

import "testing"

func TestParseAgentMessageAuth(t *testing.T) {
	data := []byte(`{"type":"auth","token":"t","service_name":"myapp","version":"1.2.3"}`)
	msg, err := ParseAgentMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != MsgAuth || msg.ServiceName != "myapp" || msg.Version != "1.2.3" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestParseAgentMessageUnknownType(t *testing.T) {
	_, err := ParseAgentMessage([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestParseAgentMessageInvalidJSON(t *testing.T) {
	_, err := ParseAgentMessage([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseAgentMessagePublishRoutes(t *testing.T) {
	data := []byte(`{"type":"publish_routes","routes":[{"domain":"a.example.com","target_port":8080,"service_type":"app","auth_required":true}]}`)
	msg, err := ParseAgentMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Routes) != 1 || msg.Routes[0].Domain != "a.example.com" || msg.Routes[0].TargetPort != 8080 {
		t.Errorf("unexpected routes: %+v", msg.Routes)
	}
}

func TestNewAuthResultHelpers(t *testing.T) {
	ok := newAuthResultOK()
	if ok.Type != MsgAuthResult || !ok.Success {
		t.Errorf("unexpected ok result: %+v", ok)
	}
	bad := newAuthResultError("nope")
	if bad.Type != MsgAuthResult || bad.Success || bad.Error == nil || *bad.Error != "nope" {
		t.Errorf("unexpected error result: %+v", bad)
	}
}
