package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"github.com/bsm/redislock"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

// store instance keyed by type name + id
func StoreRedis[T any](obj any, id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// returns nil if does not exist
func RetrieveRedis[T any](id int) (*T, error) {
	var result *T
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

func RemoveRedis[T any](id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.RemoveRedisKey(key)
}

// BusinessLock serializes a mutation type per business across instances.
func BusinessLock(ctx context.Context, businessId string, lockType string, moduleName string, functionName string) error {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when the redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", businessId, errors.New("redis lock is nil"))
		return errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, businessId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for businessID", businessId, err)
		return errors.New("could not obtain lock for businessID")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for businessID", businessId, err)
		return err
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	return nil
}
