package service

import (
	"context"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/types"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/provider"

	"github.com/zeromicro/go-zero/core/logx"
)

type GetServicesByTypeLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewGetServicesByTypeLogic(ctx context.Context, svcCtx *svc.ServiceContext) *GetServicesByTypeLogic {
	return &GetServicesByTypeLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *GetServicesByTypeLogic) GetServicesByType(serviceType string) (resp *types.ServiceListResponse, err error) {
	// 目前只有 llm 一种类型，其他类型返回空列表
	if serviceType != provider.TypeLLM {
		return &types.ServiceListResponse{
			Code:    404,
			Message: "unknown service type: " + serviceType,
			Data:    []types.ProviderInfo{},
		}, nil
	}

	return &types.ServiceListResponse{
		Code:    0,
		Message: "success",
		Data:    toProviderInfos(l.svcCtx.Registry.GetProvidersByType(serviceType)),
	}, nil
}
