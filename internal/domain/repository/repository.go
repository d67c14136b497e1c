// Package repository 定义数据访问层接口
package repository

// Store 单租户可用的存储集合
type Store struct {
	Events    EventIndexRepository
	Details   EventDetailRepository
	Segments  SegmentRepository
	Relations RelationRepository
}
