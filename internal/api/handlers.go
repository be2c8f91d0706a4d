package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/models"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
)

func (s *Server) getPresence(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if s.registry.IsOnline(userID) {
		return c.JSON(fiber.Map{"user_id": userID, "status": models.UserOnline})
	}
	status, lastSeen, err := s.status.Get(c.Context(), userID)
	if err != nil {
		return c.JSON(fiber.Map{"user_id": userID, "status": models.UserOffline})
	}
	return c.JSON(fiber.Map{"user_id": userID, "status": status, "last_seen": lastSeen})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	limit := int64(c.QueryInt("limit", 50))
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid before"})
		}
		before = t
	}
	msgs, err := s.repos.Messages.List(c.Context(), chatID, limit, before)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list failed"})
	}
	visible := msgs[:0]
	for _, m := range msgs {
		if m.VisibleTo(callerID(c)) {
			visible = append(visible, m)
		}
	}
	return c.JSON(fiber.Map{"data": visible})
}

func (s *Server) createChat(c *fiber.Ctx) error {
	var req struct {
		Name    string   `json:"name"`
		IsGroup bool     `json:"is_group"`
		Members []string `json:"members"`
	}
	if err := c.BodyParser(&req); err != nil || len(req.Members) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	caller := callerID(c)
	now := time.Now().UTC()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		Name:      req.Name,
		IsGroup:   req.IsGroup,
		Members:   dedupe(append(req.Members, caller)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if chat.IsGroup {
		chat.GroupAdminID = caller
	} else if len(chat.Members) != 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "one-to-one chat needs exactly 2 users"})
	}
	if err := s.repos.Chats.Create(c.Context(), chat); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "create failed"})
	}
	s.hub.ToUsers(c.Context(), chat.Members, events.ChatCreated, chat)
	return c.Status(fiber.StatusCreated).JSON(chat)
}

// updateChat applies group-only mutations: rename, member add/remove,
// admin transfer. Each mutation broadcasts chat:updated to current
// members.
func (s *Server) updateChat(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	var req struct {
		Name         string `json:"name"`
		AddMember    string `json:"add_member"`
		RemoveMember string `json:"remove_member"`
		NewAdmin     string `json:"new_admin"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	ctx := c.Context()
	chat, err := s.repos.Chats.Get(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "chat not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	if !chat.IsGroup {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "not a group chat"})
	}
	if chat.GroupAdminID != callerID(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin only"})
	}

	if req.Name != "" {
		err = s.repos.Chats.Rename(ctx, chatID, req.Name)
	}
	if err == nil && req.AddMember != "" {
		err = s.repos.Chats.AddMember(ctx, chatID, req.AddMember)
	}
	if err == nil && req.RemoveMember != "" {
		err = s.repos.Chats.RemoveMember(ctx, chatID, req.RemoveMember)
	}
	if err == nil && req.NewAdmin != "" {
		err = s.repos.Chats.SetGroupAdmin(ctx, chatID, req.NewAdmin)
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "update failed"})
	}

	updated, err := s.repos.Chats.Get(ctx, chatID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	targets := updated.Members
	if req.RemoveMember != "" {
		// the removed user still learns about the change
		targets = append(append([]string(nil), targets...), req.RemoveMember)
	}
	s.hub.ToUsers(ctx, targets, events.ChatUpdated, updated)
	return c.JSON(updated)
}

// leaveChat removes the caller; the last member leaving deletes the
// chat and broadcasts chat:removed.
func (s *Server) leaveChat(c *fiber.Ctx) error {
	chatID := c.Params("chat_id")
	caller := callerID(c)
	ctx := c.Context()
	chat, err := s.repos.Chats.Get(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "chat not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	if !chat.HasMember(caller) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a member"})
	}
	if err := s.repos.Chats.RemoveMember(ctx, chatID, caller); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "leave failed"})
	}
	remaining := make([]string, 0, len(chat.Members))
	for _, m := range chat.Members {
		if m != caller {
			remaining = append(remaining, m)
		}
	}
	if len(remaining) == 0 {
		if err := s.repos.Chats.Delete(ctx, chatID); err != nil {
			s.log.Warnw("chat delete failed", "chat_id", chatID, "err", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
	s.hub.ToUsers(ctx, remaining, events.ChatRemoved, fiber.Map{"chat_id": chatID, "left": caller})
	return c.SendStatus(fiber.StatusNoContent)
}

// deleteMessage soft-deletes for the caller, or tombstones for
// everyone (sender only), cascading the chat's latest-message pointer.
func (s *Server) deleteMessage(c *fiber.Ctx) error {
	messageID := c.Params("id")
	forEveryone := c.QueryBool("for_everyone", false)
	caller := callerID(c)
	ctx := c.Context()

	m, err := s.repos.Messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}

	if !forEveryone {
		if err := s.repos.Messages.SoftDelete(ctx, messageID, caller); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "delete failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	}

	if m.SenderID != caller {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "sender only"})
	}
	if err := s.repos.Messages.DeleteForEveryone(ctx, messageID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "delete failed"})
	}
	s.tracker.Evict(messageID)

	// keep the chat's latest-message pointer consistent
	chat, err := s.repos.Chats.Get(ctx, m.ChatID)
	if err == nil && chat.LatestMessage != nil && chat.LatestMessage.ID == messageID {
		newest, err := s.repos.Messages.NewestVisible(ctx, m.ChatID)
		switch {
		case err == nil:
			err = s.repos.Chats.SetLatestMessage(ctx, m.ChatID, newest)
		case errors.Is(err, repository.ErrNotFound):
			err = s.repos.Chats.ClearLatestMessage(ctx, m.ChatID)
		}
		if err != nil {
			s.log.Warnw("latest message cascade failed", "chat_id", m.ChatID, "err", err)
		}
	}

	s.hub.ToChat(ctx, m.ChatID, events.MessageDeleted,
		events.MessageDeletedPayload{MessageID: messageID, ChatID: m.ChatID, ForEveryone: true}, nil)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) addReaction(c *fiber.Ctx) error {
	return s.reaction(c, s.repos.Messages.AddReaction)
}

func (s *Server) removeReaction(c *fiber.Ctx) error {
	return s.reaction(c, s.repos.Messages.RemoveReaction)
}

func (s *Server) reaction(c *fiber.Ctx, op func(ctx context.Context, messageID, userID, emoji string) error) error {
	messageID := c.Params("id")
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil || req.Emoji == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if err := op(c.Context(), messageID, callerID(c), req.Emoji); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reaction failed"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
