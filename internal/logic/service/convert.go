package service

import (
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/types"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/provider"
)

// 转换为 API 响应格式
func toProviderInfo(p provider.ProviderInfo) types.ProviderInfo {
	return types.ProviderInfo{
		Name:         p.Name,
		Type:         p.Type,
		Status:       p.Status,
		Capabilities: p.Capabilities,
		Config:       p.Config,
	}
}

func toProviderInfos(providers []provider.ProviderInfo) []types.ProviderInfo {
	infos := make([]types.ProviderInfo, 0, len(providers))
	for _, p := range providers {
		infos = append(infos, toProviderInfo(p))
	}
	return infos
}
