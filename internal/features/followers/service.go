// Package followers handles the follow graph and user blocking. Counter
// updates use symmetric deltas on both replicas, so follow and unfollow
// jobs net out regardless of drain order.
package followers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/apperr"
	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	QueueName = "followers"

	JobAddFollower       = "addFollowerToDB"
	JobRemoveFollower    = "removeFollowerFromDB"
	JobAddBlockedUser    = "addBlockedUserToDB"
	JobRemoveBlockedUser = "removeBlockedUserFromDB"
)

// EdgeID is the deterministic id of a follow edge, so replayed jobs land
// on the same durable record.
func EdgeID(followerID, followeeID string) string {
	return followerID + ":" + followeeID
}

type Service struct {
	cache  *cache.Store
	bus    *events.Bus
	queue  *queue.Queue
	logger log.Logger
}

func NewService(c *cache.Store, b *events.Bus, q *queue.Queue, logger log.Logger) *Service {
	return &Service{cache: c, bus: b, queue: q, logger: logger.WithComponent("followers")}
}

type edgeJob struct {
	FollowerID string `json:"followerId"`
	FolloweeID string `json:"followeeId"`
}

type blockJob struct {
	UserID    string `json:"userId"`
	BlockedID string `json:"blockedId"`
}

// Follow records the edge in both users' lists, bumps both counters,
// notifies clients and schedules the durable write.
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) error {
	if err := s.cache.ListPush(ctx, cache.FollowingKey(followerID), followeeID); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache following", err)
	}
	if err := s.cache.ListPush(ctx, cache.FollowersKey(followeeID), followerID); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache followers", err)
	}
	if err := s.adjustCounts(ctx, followerID, followeeID, 1); err != nil {
		return err
	}
	s.publish(ctx, events.AddFollower, edgeJob{FollowerID: followerID, FolloweeID: followeeID})
	if _, err := s.queue.Enqueue(ctx, JobAddFollower, edgeJob{FollowerID: followerID, FolloweeID: followeeID}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue follow", err)
	}
	return nil
}

// Unfollow reverses everything Follow did.
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if err := s.cache.ListRemove(ctx, cache.FollowingKey(followerID), followeeID); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "uncache following", err)
	}
	if err := s.cache.ListRemove(ctx, cache.FollowersKey(followeeID), followerID); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "uncache followers", err)
	}
	if err := s.adjustCounts(ctx, followerID, followeeID, -1); err != nil {
		return err
	}
	s.publish(ctx, events.RemoveFollower, edgeJob{FollowerID: followerID, FolloweeID: followeeID})
	if _, err := s.queue.Enqueue(ctx, JobRemoveFollower, edgeJob{FollowerID: followerID, FolloweeID: followeeID}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue unfollow", err)
	}
	return nil
}

func (s *Service) adjustCounts(ctx context.Context, followerID, followeeID string, delta int64) error {
	if _, err := s.cache.Increment(ctx, cache.UserKey(followerID), "followingCount", delta); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "adjust followingCount", err)
	}
	if _, err := s.cache.Increment(ctx, cache.UserKey(followeeID), "followersCount", delta); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "adjust followersCount", err)
	}
	return nil
}

// Followers lists the ids following userID.
func (s *Service) Followers(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.cache.ListRange(ctx, cache.FollowersKey(userID), 0, -1)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read followers", err)
	}
	return ids, nil
}

// Following lists the ids userID follows.
func (s *Service) Following(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.cache.ListRange(ctx, cache.FollowingKey(userID), 0, -1)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read following", err)
	}
	return ids, nil
}

// Block adds blockedID to userID's blocked list and the mirror blockedBy
// entry on the other snapshot.
func (s *Service) Block(ctx context.Context, userID, blockedID string) error {
	if err := s.editBlockList(ctx, userID, blockedID, true); err != nil {
		return err
	}
	s.publish(ctx, events.BlockUser, blockJob{UserID: userID, BlockedID: blockedID})
	if _, err := s.queue.Enqueue(ctx, JobAddBlockedUser, blockJob{UserID: userID, BlockedID: blockedID}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue block", err)
	}
	return nil
}

// Unblock reverses Block.
func (s *Service) Unblock(ctx context.Context, userID, blockedID string) error {
	if err := s.editBlockList(ctx, userID, blockedID, false); err != nil {
		return err
	}
	s.publish(ctx, events.UnblockUser, blockJob{UserID: userID, BlockedID: blockedID})
	if _, err := s.queue.Enqueue(ctx, JobRemoveBlockedUser, blockJob{UserID: userID, BlockedID: blockedID}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue unblock", err)
	}
	return nil
}

func (s *Service) editBlockList(ctx context.Context, userID, blockedID string, add bool) error {
	if err := s.editIDList(ctx, cache.UserKey(userID), "blocked", blockedID, add); err != nil {
		return err
	}
	return s.editIDList(ctx, cache.UserKey(blockedID), "blockedBy", userID, add)
}

// editIDList rewrites one JSON id-array field on a user snapshot.
func (s *Service) editIDList(ctx context.Context, key, field, member string, add bool) error {
	raw, err := s.cache.ReadField(ctx, key, field)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return apperr.Wrap(apperr.KindCacheUnavailable, "read "+field, err)
	}
	var ids []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return apperr.Wrap(apperr.KindInternal, fmt.Sprintf("decode %s on %s", field, key), err)
		}
	}
	if add {
		for _, existing := range ids {
			if existing == member {
				return nil
			}
		}
		ids = append(ids, member)
	} else {
		kept := ids[:0]
		for _, existing := range ids {
			if existing != member {
				kept = append(kept, existing)
			}
		}
		ids = kept
	}
	if ids == nil {
		ids = []string{}
	}
	out, err := json.Marshal(ids)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode "+field, err)
	}
	if err := s.cache.WriteFields(ctx, key, map[string]string{field: string(out)}); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "write "+field, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event string, payload interface{}) {
	if err := s.bus.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("event publish failed", log.Str("event", event), log.Err(err))
	}
}
