package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/shopchat/internal/config"
)

func TestBaseDirHonorsEnv(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(HomeEnv, tmp)

	if got := BaseDir(); got != tmp {
		t.Errorf("BaseDir() = %q, want %q", got, tmp)
	}
	want := filepath.Join(tmp, "profiles", "work", "daemon.sock")
	if got := SocketPath("work"); got != want {
		t.Errorf("SocketPath(work) = %q, want %q", got, want)
	}
	if got := LogPath("work"); got != filepath.Join(tmp, "profiles", "work", "logs", "shopchatd.log") {
		t.Errorf("LogPath(work) = %q", got)
	}
	if got := DBPath("work"); got != filepath.Join(tmp, "profiles", "work", "chat.db") {
		t.Errorf("DBPath(work) = %q", got)
	}
}

func TestBaseDirDefault(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	if got := BaseDir(); got != filepath.Join(home, ".shopchat") {
		t.Errorf("BaseDir() = %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("log dir permission = %o, want 0700", info.Mode().Perm())
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with hyphen", "shop-42", false},
		{"valid with underscore", "my_profile", false},
		{"valid max length", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "my.profile", true},
		{"too long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
		{"slash", "../etc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := config.Defaults()
	cfg.DefaultProfile = "shop"

	if got := Resolve("flag", cfg); got != "flag" {
		t.Errorf("Resolve(flag) = %q", got)
	}
	if got := Resolve("", cfg); got != "shop" {
		t.Errorf("Resolve(config) = %q", got)
	}
	if got := Resolve("", nil); got != DefaultName {
		t.Errorf("Resolve(nil) = %q", got)
	}
}
