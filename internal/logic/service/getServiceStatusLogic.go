package service

import (
	"context"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/types"

	"github.com/zeromicro/go-zero/core/logx"
)

type GetServiceStatusLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewGetServiceStatusLogic(ctx context.Context, svcCtx *svc.ServiceContext) *GetServiceStatusLogic {
	return &GetServiceStatusLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *GetServiceStatusLogic) GetServiceStatus(serviceType, name string) (resp *types.ServiceStatusResponse, err error) {
	info, err := l.svcCtx.Registry.GetProviderInfo(serviceType, name)
	if err != nil {
		return &types.ServiceStatusResponse{
			Code:    404,
			Message: err.Error(),
		}, nil
	}

	return &types.ServiceStatusResponse{
		Code:    0,
		Message: "success",
		Data:    toProviderInfo(*info),
	}, nil
}
