package config

import (
	"testing"

	"github.com/R3E-Network/bridge_layer/internal/app/auth"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BRIDGE_ADMIN_IDS", "admin-1, admin-2")
	t.Setenv("BRIDGE_OPERATOR_IDS", "ops-1")
	t.Setenv("BRIDGE_JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if len(cfg.Admins) != 2 || cfg.Admins[1] != "admin-2" {
		t.Fatalf("admins = %v", cfg.Admins)
	}
	if cfg.WithdrawRole != auth.RoleAdmin {
		t.Fatalf("withdraw role = %q, want admin default", cfg.WithdrawRole)
	}
	if cfg.ChainBacked() {
		t.Fatalf("chain backend must be off without NEO_RPC_URL")
	}
}

func TestLoad_RequiresAdminsAndSecret(t *testing.T) {
	t.Setenv("BRIDGE_ADMIN_IDS", "")
	t.Setenv("BRIDGE_JWT_SECRET", "secret")
	if _, err := Load(); err == nil {
		t.Fatalf("missing admins must fail")
	}

	t.Setenv("BRIDGE_ADMIN_IDS", "admin-1")
	t.Setenv("BRIDGE_JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("missing jwt secret must fail")
	}
}

func TestLoad_ChainVarsTogether(t *testing.T) {
	t.Setenv("BRIDGE_ADMIN_IDS", "admin-1")
	t.Setenv("BRIDGE_JWT_SECRET", "secret")
	t.Setenv("NEO_RPC_URL", "http://localhost:10332")
	t.Setenv("IDRX_TOKEN_HASH", "")
	t.Setenv("BRIDGE_CUSTODY_ADDRESS", "")

	if _, err := Load(); err == nil {
		t.Fatalf("partial chain config must fail")
	}
}

func TestLoad_WithdrawRole(t *testing.T) {
	t.Setenv("BRIDGE_ADMIN_IDS", "admin-1")
	t.Setenv("BRIDGE_JWT_SECRET", "secret")
	t.Setenv("BRIDGE_WITHDRAW_ROLE", "operator")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WithdrawRole != auth.RoleOperator {
		t.Fatalf("withdraw role = %q", cfg.WithdrawRole)
	}

	t.Setenv("BRIDGE_WITHDRAW_ROLE", "viewer")
	if _, err := Load(); err == nil {
		t.Fatalf("unknown role must fail")
	}
}
