package discord

import (
	"strings"

	"kagami/pkg/kagami"

	"github.com/bwmarrin/discordgo"
)

func conversationFromMessage(message *discordgo.Message) kagami.Conversation {
	conversation := kagami.Conversation{
		ID:      message.ChannelID,
		SpaceID: message.GuildID,
		Type:    kagami.ConversationTypeGroup,
	}
	if message.GuildID == "" {
		conversation.Type = kagami.ConversationTypePrivate
	}

	return conversation
}

func conversationFromChannel(channel *discordgo.Channel) kagami.Conversation {
	conversation := kagami.Conversation{
		ID:      channel.ID,
		Type:    kagami.ConversationTypeGroup,
		Title:   channel.Name,
		SpaceID: channel.GuildID,
	}
	switch channel.Type {
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		conversation.Type = kagami.ConversationTypePrivate
	case discordgo.ChannelTypeGuildNews:
		conversation.Type = kagami.ConversationTypeChannel
	}

	return conversation
}

// actorFromUser maps a user and optional guild member. Display name prefers
// the guild nickname, then the global name.
func actorFromUser(user *discordgo.User, member *discordgo.Member, identity *Identity) kagami.Actor {
	if user == nil {
		return kagami.Actor{}
	}

	actor := kagami.Actor{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.GlobalName,
		IsBot:       user.Bot,
	}
	if member != nil && member.Nick != "" {
		actor.DisplayName = member.Nick
	}
	if user.Avatar != "" {
		actor.AvatarURL = user.AvatarURL("")
	}
	if identity != nil {
		actor.IsSelf = identity.IsSelf(user.ID)
	}

	return actor
}

func messageFromDiscord(message *discordgo.Message) kagami.Message {
	mapped := kagami.Message{
		ID:              message.ID,
		Text:            message.Content,
		Media:           mediaFromAttachments(message.Attachments),
		ProxyEndpointID: message.WebhookID,
	}
	if message.MessageReference != nil {
		mapped.ReplyToID = message.MessageReference.MessageID
	}

	return mapped
}

func mediaFromAttachments(attachments []*discordgo.MessageAttachment) []kagami.MediaAttachment {
	if len(attachments) == 0 {
		return nil
	}

	media := make([]kagami.MediaAttachment, 0, len(attachments))
	for _, attachment := range attachments {
		if attachment == nil {
			continue
		}
		media = append(media, kagami.MediaAttachment{
			ID:        attachment.ID,
			Type:      classifyAttachment(attachment),
			MIMEType:  attachment.ContentType,
			FileName:  attachment.Filename,
			SizeBytes: int64(attachment.Size),
			URI:       attachment.URL,
		})
	}

	return media
}

// classifyAttachment treats anything with pixel height or an image content
// type as a photo.
func classifyAttachment(attachment *discordgo.MessageAttachment) kagami.MediaType {
	contentType := strings.ToLower(attachment.ContentType)
	switch {
	case attachment.Height > 0 || strings.HasPrefix(contentType, "image/"):
		return kagami.MediaTypePhoto
	case strings.HasPrefix(contentType, "video/"):
		return kagami.MediaTypeVideo
	case strings.HasPrefix(contentType, "audio/"):
		return kagami.MediaTypeAudio
	default:
		return kagami.MediaTypeDocument
	}
}

func editChangesText(message *discordgo.Message, before *discordgo.Message) bool {
	if message.Content == "" && len(message.Attachments) == 0 {
		return false
	}

	return before == nil || before.Content != message.Content
}
