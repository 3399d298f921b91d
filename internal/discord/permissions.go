package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker gates commands that change voice state behind a
// control role.
type PermissionChecker struct {
	controlRoleID string
}

// NewPermissionChecker creates a PermissionChecker for controlRoleID.
func NewPermissionChecker(controlRoleID string) *PermissionChecker {
	return &PermissionChecker{controlRoleID: controlRoleID}
}

// CanControl reports whether the interaction author holds the control role.
// With no role configured everyone may control the bot. Interactions without
// a guild member (direct messages) never may.
func (p *PermissionChecker) CanControl(i *discordgo.InteractionCreate) bool {
	if p.controlRoleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, p.controlRoleID)
}
