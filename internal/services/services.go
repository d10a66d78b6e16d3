// Package services 提供跨领域的应用服务
//
// 目前只有权限管理：在安装系统级钩子前确认辅助功能权限，
// 缺失时记录提示、发布权限事件，并在首次运行时触发系统授权提示。
package services
