// Package refund 按公司配置的额度校验退款请求，核对原始交易后从代理钱包发起原生代币转账。
package refund
