package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch 监听配置文件变更，每次写入后重新加载并回调 onChange，直到 ctx 取消。
// 重新加载失败时记录日志并保留旧配置，不会触发回调。
//
// 监听的是所在目录而不是文件本身：编辑器以"写临时文件再 rename 覆盖"方式保存时，
// 文件级 watch 会随旧 inode 一起失效。
func Watch(ctx context.Context, path string, logger logrus.FieldLogger, onChange func(*Config)) error {
	target := filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	fields := logrus.Fields{"action": "config_watch", "configPath": path}
	logger.WithFields(fields).Info("config_watch_started")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// rename 覆盖在目录上表现为 Create。
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.WithFields(fields).WithError(err).Error("config_reload_failed")
				continue
			}

			logger.WithFields(fields).Info("config_reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithFields(fields).WithError(err).Error("config_watch_error")
		}
	}
}
