// Package users maintains the cached user snapshot, the `user` index and
// the durable user document.
package users

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	QueueName = "users"

	JobAddUser         = "addUserToDB"
	JobUpdateAttribute = "updateUserAttributeInDB"
)

// User is the cached profile snapshot. Blocked and BlockedBy are id lists
// serialized as JSON arrays in the record.
type User struct {
	ID             string   `json:"_id"`
	UID            int64    `json:"uId"`
	Username       string   `json:"username"`
	Email          string   `json:"email"`
	AvatarColor    string   `json:"avatarColor"`
	ProfilePicture string   `json:"profilePicture"`
	PostsCount     int64    `json:"postsCount"`
	FollowersCount int64    `json:"followersCount"`
	FollowingCount int64    `json:"followingCount"`
	Blocked        []string `json:"blocked"`
	BlockedBy      []string `json:"blockedBy"`
	BgImageID      string   `json:"bgImageId"`
	BgImageVersion string   `json:"bgImageVersion"`
	CreatedAtMs    int64    `json:"createdAt"`
}

func fieldMap(u *User) (map[string]string, error) {
	blocked, err := json.Marshal(emptyAsList(u.Blocked))
	if err != nil {
		return nil, fmt.Errorf("users: marshal blocked: %w", err)
	}
	blockedBy, err := json.Marshal(emptyAsList(u.BlockedBy))
	if err != nil {
		return nil, fmt.Errorf("users: marshal blockedBy: %w", err)
	}
	return map[string]string{
		"_id":            u.ID,
		"uId":            strconv.FormatInt(u.UID, 10),
		"username":       u.Username,
		"email":          u.Email,
		"avatarColor":    u.AvatarColor,
		"profilePicture": u.ProfilePicture,
		"postsCount":     strconv.FormatInt(u.PostsCount, 10),
		"followersCount": strconv.FormatInt(u.FollowersCount, 10),
		"followingCount": strconv.FormatInt(u.FollowingCount, 10),
		"blocked":        string(blocked),
		"blockedBy":      string(blockedBy),
		"bgImageId":      u.BgImageID,
		"bgImageVersion": u.BgImageVersion,
		"createdAt":      strconv.FormatInt(u.CreatedAtMs, 10),
	}, nil
}

func fromFields(fields map[string]string) (*User, error) {
	u := &User{
		ID:             fields["_id"],
		Username:       fields["username"],
		Email:          fields["email"],
		AvatarColor:    fields["avatarColor"],
		ProfilePicture: fields["profilePicture"],
		BgImageID:      fields["bgImageId"],
		BgImageVersion: fields["bgImageVersion"],
	}
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"uId", &u.UID},
		{"postsCount", &u.PostsCount},
		{"followersCount", &u.FollowersCount},
		{"followingCount", &u.FollowingCount},
		{"createdAt", &u.CreatedAtMs},
	} {
		v := fields[f.name]
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("users: %s %q: %v", f.name, v, err)
		}
		*f.dst = n
	}
	if v := fields["blocked"]; v != "" {
		if err := json.Unmarshal([]byte(v), &u.Blocked); err != nil {
			return nil, fmt.Errorf("users: blocked %q: %v", v, err)
		}
	}
	if v := fields["blockedBy"]; v != "" {
		if err := json.Unmarshal([]byte(v), &u.BlockedBy); err != nil {
			return nil, fmt.Errorf("users: blockedBy %q: %v", v, err)
		}
	}
	return u, nil
}

func doc(u *User) map[string]interface{} {
	return map[string]interface{}{
		"uId":            u.UID,
		"username":       u.Username,
		"email":          u.Email,
		"avatarColor":    u.AvatarColor,
		"profilePicture": u.ProfilePicture,
		"postsCount":     u.PostsCount,
		"followersCount": u.FollowersCount,
		"followingCount": u.FollowingCount,
		"blocked":        emptyAsList(u.Blocked),
		"blockedBy":      emptyAsList(u.BlockedBy),
		"bgImageId":      u.BgImageID,
		"bgImageVersion": u.BgImageVersion,
		"createdAt":      u.CreatedAtMs,
	}
}

// emptyAsList keeps nil slices serializing as [] rather than null.
func emptyAsList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
