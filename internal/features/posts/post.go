package posts

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Queue and job names for the post pipeline.
const (
	QueueName = "posts"

	JobAddPost    = "addPostToDB"
	JobUpdatePost = "updatePostInDB"
	JobDeletePost = "deletePostFromDB"
)

// Reactions is the per-type reaction tally carried on every post record,
// serialized as one JSON object into the `reactions` field.
type Reactions struct {
	Like  int64 `json:"like"`
	Love  int64 `json:"love"`
	Happy int64 `json:"happy"`
	Wow   int64 `json:"wow"`
	Sad   int64 `json:"sad"`
	Angry int64 `json:"angry"`
}

// Add adjusts the tally for one reaction type. Unknown types are ignored.
func (r *Reactions) Add(reactionType string, delta int64) {
	switch reactionType {
	case "like":
		r.Like += delta
	case "love":
		r.Love += delta
	case "happy":
		r.Happy += delta
	case "wow":
		r.Wow += delta
	case "sad":
		r.Sad += delta
	case "angry":
		r.Angry += delta
	}
}

// Post is the cached snapshot of a post.
type Post struct {
	ID             string    `json:"_id"`
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	AvatarColor    string    `json:"avatarColor"`
	ProfilePicture string    `json:"profilePicture"`
	Post           string    `json:"post"`
	BgColor        string    `json:"bgColor"`
	Feelings       string    `json:"feelings"`
	Privacy        string    `json:"privacy"`
	GifURL         string    `json:"gifUrl"`
	CommentsCount  int64     `json:"commentsCount"`
	Reactions      Reactions `json:"reactions"`
	ImgID          string    `json:"imgId"`
	CreatedAtMs    int64     `json:"createdAt"`
}

// fieldMap flattens a post into the cache record's string fields.
func fieldMap(p *Post) (map[string]string, error) {
	reactions, err := json.Marshal(p.Reactions)
	if err != nil {
		return nil, fmt.Errorf("posts: marshal reactions: %w", err)
	}
	return map[string]string{
		"_id":            p.ID,
		"userId":         p.UserID,
		"username":       p.Username,
		"email":          p.Email,
		"avatarColor":    p.AvatarColor,
		"profilePicture": p.ProfilePicture,
		"post":           p.Post,
		"bgColor":        p.BgColor,
		"feelings":       p.Feelings,
		"privacy":        p.Privacy,
		"gifUrl":         p.GifURL,
		"commentsCount":  strconv.FormatInt(p.CommentsCount, 10),
		"reactions":      string(reactions),
		"imgId":          p.ImgID,
		"createdAt":      strconv.FormatInt(p.CreatedAtMs, 10),
	}, nil
}

// fromFields rebuilds a post from its cache record.
func fromFields(fields map[string]string) (*Post, error) {
	p := &Post{
		ID:             fields["_id"],
		UserID:         fields["userId"],
		Username:       fields["username"],
		Email:          fields["email"],
		AvatarColor:    fields["avatarColor"],
		ProfilePicture: fields["profilePicture"],
		Post:           fields["post"],
		BgColor:        fields["bgColor"],
		Feelings:       fields["feelings"],
		Privacy:        fields["privacy"],
		GifURL:         fields["gifUrl"],
		ImgID:          fields["imgId"],
	}
	if v := fields["commentsCount"]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("posts: commentsCount %q: %v", v, err)
		}
		p.CommentsCount = n
	}
	if v := fields["createdAt"]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("posts: createdAt %q: %v", v, err)
		}
		p.CreatedAtMs = n
	}
	if v := fields["reactions"]; v != "" {
		if err := json.Unmarshal([]byte(v), &p.Reactions); err != nil {
			return nil, fmt.Errorf("posts: reactions %q: %v", v, err)
		}
	}
	return p, nil
}

// doc flattens a post into the durable document shape.
func doc(p *Post) map[string]interface{} {
	return map[string]interface{}{
		"userId":         p.UserID,
		"username":       p.Username,
		"email":          p.Email,
		"avatarColor":    p.AvatarColor,
		"profilePicture": p.ProfilePicture,
		"post":           p.Post,
		"bgColor":        p.BgColor,
		"feelings":       p.Feelings,
		"privacy":        p.Privacy,
		"gifUrl":         p.GifURL,
		"commentsCount":  p.CommentsCount,
		"reactions": map[string]interface{}{
			"like":  p.Reactions.Like,
			"love":  p.Reactions.Love,
			"happy": p.Reactions.Happy,
			"wow":   p.Reactions.Wow,
			"sad":   p.Reactions.Sad,
			"angry": p.Reactions.Angry,
		},
		"imgId":     p.ImgID,
		"createdAt": p.CreatedAtMs,
	}
}
