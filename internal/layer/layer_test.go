package layer

import "testing"

func TestOwningUID(t *testing.T) {
	sys := Layer{Name: "base", Kind: System}
	if _, applies := sys.OwningUID(1000); applies {
		t.Fatal("system layer must not bind to a caller uid")
	}

	user := Layer{Name: "user", Kind: User}
	uid, applies := user.OwningUID(1000)
	if !applies || uid != 1000 {
		t.Fatalf("user layer: got uid=%d applies=%v, want 1000,true", uid, applies)
	}
}

func TestKeyValidate(t *testing.T) {
	cases := []struct {
		name         string
		key          Key
		requireLayer bool
		wantErr      bool
	}{
		{"group only", GroupKey("base", "net"), true, false},
		{"group and name", ValueKey("base", "net", "hostname"), true, false},
		{"missing layer when required", Key{Group: "net"}, true, true},
		{"missing layer ok when not required", Key{Group: "net"}, false, false},
		{"empty group", Key{Layer: "base", HasLayer: true}, true, true},
		{"empty name when present", Key{Layer: "base", HasLayer: true, Group: "net", HasName: true}, true, true},
		{"NUL in group", Key{Layer: "base", HasLayer: true, Group: "n\x00t"}, true, true},
		{"NUL in name", ValueKey("base", "net", "h\x00ost"), true, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.key.Validate(c.requireLayer)
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestKeyString(t *testing.T) {
	if got := GroupKey("base", "net").String(); got != "(base, net, ⊥)" {
		t.Fatalf("got %q", got)
	}
	if got := ValueKey("base", "net", "hostname").String(); got != "(base, net, hostname)" {
		t.Fatalf("got %q", got)
	}
}
