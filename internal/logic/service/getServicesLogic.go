package service

import (
	"context"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/types"

	"github.com/zeromicro/go-zero/core/logx"
)

type GetServicesLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewGetServicesLogic(ctx context.Context, svcCtx *svc.ServiceContext) *GetServicesLogic {
	return &GetServicesLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// GetServices 列出所有已注册的模型 Provider
func (l *GetServicesLogic) GetServices() (resp *types.ServiceListResponse, err error) {
	return &types.ServiceListResponse{
		Code:    0,
		Message: "success",
		Data:    toProviderInfos(l.svcCtx.Registry.GetAllProviders()),
	}, nil
}
